package engine

// PhaseKind identifies one benchmark phase. Data phases move bytes through
// transfer handles; the remaining kinds exercise metadata operations on the
// directory tree.
type PhaseKind int

const (
	PhaseWrite PhaseKind = iota
	PhaseRead
	PhaseWriteCheck
	PhaseTreeCreate
	PhaseDirCreate
	PhaseDirStat
	PhaseDirRename
	PhaseDirRemove
	PhaseFileCreate
	PhaseFileStat
	PhaseFileRead
	PhaseFileRemove
	PhaseTreeRemove

	numPhases
)

var phaseNames = [numPhases]string{
	"write",
	"read",
	"write-check",
	"tree-create",
	"dir-create",
	"dir-stat",
	"dir-rename",
	"dir-remove",
	"file-create",
	"file-stat",
	"file-read",
	"file-remove",
	"tree-remove",
}

func (k PhaseKind) String() string {
	if k < 0 || k >= numPhases {
		return "unknown"
	}
	return phaseNames[k]
}

// Index returns the phase's position in the fixed phase order, used to
// derive phase-scoped seeds.
func (k PhaseKind) Index() int {
	return int(k)
}
