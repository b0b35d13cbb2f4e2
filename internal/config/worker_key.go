package config

type WorkerKeyStruct struct {
	PersistProgressQueue    string
	PersistTabSwitchesQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressQueue:    "persist_progress_queue",
	PersistTabSwitchesQueue: "persist_tab_switches_queue",
}
