package server

import (
	"tms/internal/domain"
	"tms/internal/engine"
)

type LoginRequest struct {
	Email    string `json:"email" example:"alice@example.com"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type" example:"Bearer"`
	ExpiresIn int64  `json:"expires_in" doc:"Token lifetime in seconds"`
}

type CreateTaskRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Status      domain.TaskStatus   `json:"status,omitempty" enum:"PENDING,PROCESSING,COMPLETED"`
	Priority    domain.TaskPriority `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	AssigneeID  int64               `json:"assignee_id"`
}

type UpdateTaskRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Status      *domain.TaskStatus   `json:"status,omitempty" enum:"PENDING,PROCESSING,COMPLETED"`
	Priority    *domain.TaskPriority `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	AssigneeID  *int64               `json:"assignee_id,omitempty"`
	Version     *int64               `json:"version,omitempty" doc:"Version the client read; the write fails with a conflict if it is stale"`
}

type UpdateTaskStatusRequest struct {
	Status domain.TaskStatus `json:"status" enum:"PENDING,PROCESSING,COMPLETED"`
}

type CreateCommentRequest struct {
	Text string `json:"text"`
}

type UpdateCommentRequest struct {
	Text    *string `json:"text,omitempty"`
	Version *int64  `json:"version,omitempty"`
}

type CreateUserRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email" format:"email"`
	Password  string `json:"password"`
	Authority string `json:"authority,omitempty" example:"ROLE_USER"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty" format:"email"`
	Password *string `json:"password,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

type AssignRoleRequest struct {
	Authority string `json:"authority" example:"ROLE_ADMIN"`
}

// PagedResponse is the wire shape of one listing window.
type PagedResponse[T any] struct {
	Content       []T   `json:"content"`
	PageNumber    int   `json:"page_number"`
	PageSize      int   `json:"page_size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int64 `json:"total_pages"`
}

func pagedResponse[T any](p engine.Page[T], pageNumber, pageSize int) PagedResponse[T] {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageNumber < 0 {
		pageNumber = 0
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	totalPages := (p.Total + int64(pageSize) - 1) / int64(pageSize)
	return PagedResponse[T]{
		Content:       p.Items,
		PageNumber:    pageNumber,
		PageSize:      pageSize,
		TotalElements: p.Total,
		TotalPages:    totalPages,
	}
}
