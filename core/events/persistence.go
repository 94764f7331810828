package events

const (
	// KindSaveCompleted identifies a written save file.
	KindSaveCompleted Kind = "persistence.save_completed"
	// KindSaveFailed identifies a failed save.
	KindSaveFailed Kind = "persistence.save_failed"
)

// SaveCompleted carries the path of a written save file.
type SaveCompleted struct {
	Base
	Path string
	Auto bool
}

// NewSaveCompleted creates a save completed event.
func NewSaveCompleted(path string, auto bool) SaveCompleted {
	return SaveCompleted{Base: NewBase(KindSaveCompleted), Path: path, Auto: auto}
}

// SaveFailed reports a failed save.
type SaveFailed struct {
	Base
	Err  error
	Auto bool
}

// NewSaveFailed creates a save failed event.
func NewSaveFailed(err error, auto bool) SaveFailed {
	return SaveFailed{Base: NewBase(KindSaveFailed), Err: err, Auto: auto}
}
