package train

// State is everything that carries over from one epoch to the next, apart from the
// model parameters themselves.
type State struct {
	Epoch        int // Last completed epoch, or -1 before the first epoch
	BestAccuracy float64
	Optimizer    *Adam
	Scheduler    *PlateauScheduler
}

// NewState is the state at the start of a fresh run
func NewState(lr float64) State {
	return State{
		Epoch:     -1,
		Optimizer: NewAdam(lr),
		Scheduler: NewPlateauScheduler(),
	}
}

// IsNewBest reports whether a validation accuracy deserves a new best checkpoint.
// Only strict improvement counts, so ties keep the earlier checkpoint.
func IsNewBest(accuracy, best float64) bool {
	return accuracy > best
}

// EpochResult is the summary of one epoch
type EpochResult struct {
	Epoch         int
	TrainAccuracy float64
	TrainLoss     float64
	ValAccuracy   float64
	ValLoss       float64
	LearningRate  float64 // After the scheduler step
	LRReduced     bool
	NewBest       bool
	Confusion     [][]int // [label][prediction]
}
