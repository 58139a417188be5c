package domain

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
)

func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
)

func ValidTaskPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task carries a version counter for optimistic concurrency: it starts at 0
// on insert and the store increments it by exactly 1 per committed mutation.
type Task struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status" enum:"PENDING,PROCESSING,COMPLETED"`
	Priority    TaskPriority `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	AuthorID    int64        `json:"author_id"`
	AssigneeID  int64        `json:"assignee_id"`
	Version     int64        `json:"version"`
	CommentIDs  []int64      `json:"comment_ids,omitempty"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	UserID    int64  `json:"user_id"`
	TaskID    int64  `json:"task_id"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	RoleID       int64  `json:"role_id,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// Role is one-to-one with User; Authority is the granted authority string,
// e.g. ROLE_ADMIN or ROLE_USER.
type Role struct {
	ID        int64  `json:"id"`
	Authority string `json:"authority"`
	UserID    int64  `json:"user_id"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}
