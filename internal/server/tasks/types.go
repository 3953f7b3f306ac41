// Package tasks keeps reviewer tasks and user notifications in step with
// information requests. Task bookkeeping is best effort: failures are
// logged and never returned to the caller.
package tasks

type TaskType string

const (
	ReviewCreditLineRequest  TaskType = "CL.ReviewCLR"
	ReviewDepositLoanRequest TaskType = "CL.DepositLoan.ReviewDLR"
)

type Status string

const (
	StatusToDo Status = "To Do"
	StatusDone Status = "Done"
)

// Context identifies a task. It must be built identically when creating
// and when resolving the task.
type Context map[string]string

type Permission struct {
	ProductID string `json:"productId"`
	ActionID  string `json:"actionId"`
}

type EmailData struct {
	Subject  string `json:"subject"`
	TaskLink string `json:"taskLink"`
}

// Task is the descriptor submitted to the task manager.
type Task struct {
	TaskType             TaskType   `json:"taskType"`
	Status               Status     `json:"status"`
	CounterpartyStaticID string     `json:"counterpartyStaticId"`
	Context              Context    `json:"context"`
	Summary              string     `json:"summary"`
	RequiredPermission   Permission `json:"requiredPermission"`
	EmailData            EmailData  `json:"emailData"`
}

type StatusUpdate struct {
	Status   Status   `json:"status"`
	TaskType TaskType `json:"taskType"`
	Context  Context  `json:"context"`
	Outcome  bool     `json:"outcome"`
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
)

type Notification struct {
	ProductID          string            `json:"productId"`
	Type               string            `json:"type"`
	Level              NotificationLevel `json:"level"`
	RequiredPermission Permission        `json:"requiredPermission"`
	Context            Context           `json:"context"`
	Message            string            `json:"message"`
}
