package config

type WorkerKeyStruct struct {
	AttemptFinalizedQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AttemptFinalizedQueue: "attempt_finalized_queue",
}
