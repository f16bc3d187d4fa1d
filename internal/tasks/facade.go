package tasks

// Store is the narrow data-access facade the core consumes (§6). No SQL
// appears above this interface; the schema is owned by whatever
// implements it, and the core asserts it only via HealthCheck.
type Store interface {
	GetAllTasks() ([]*Task, error)
	GetTaskByID(id string) (*Task, error)
	GetTasksByStatus(status Status) ([]*Task, error)
	GetTaskCounts() (map[Status]int, error)

	CreateTask(task *Task) error
	UpdateTask(task *Task) error
	DeleteTask(id string) error
	RecordTransition(taskID string, from, to Status, reason string) error

	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
	IncrementTaskIDCounter() (int64, error)

	HealthCheck() error
	Initialize() error
	Disconnect() error
}
