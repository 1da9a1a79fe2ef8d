package repo

import (
	"os"

	"github.com/strandvcs/strand/pkg/object"
)

// FileMode is the tracked mode of an index or tree entry.
type FileMode string

const (
	ModeFile       = FileMode(object.TreeModeFile)
	ModeExecutable = FileMode(object.TreeModeExecutable)
	ModeSymlink    = FileMode(object.TreeModeSymlink)
)

func fileModeOf(info os.FileInfo) FileMode {
	if info.Mode()&os.ModeSymlink != 0 {
		return ModeSymlink
	}
	if info.Mode()&0o111 != 0 {
		return ModeExecutable
	}
	return ModeFile
}

func normalizeFileMode(mode FileMode) FileMode {
	switch mode {
	case ModeExecutable, ModeSymlink:
		return mode
	default:
		return ModeFile
	}
}

func filePermFromMode(mode FileMode) os.FileMode {
	if normalizeFileMode(mode) == ModeExecutable {
		return 0o755
	}
	return 0o644
}
