// Package authz holds the per-request authorization core: a path resolver
// that extracts the target task from a request URI, an ownership oracle
// answering author/assignee membership, and the ordered decision rules.
package authz

import (
	"strconv"
	"strings"
)

// Class tags what a request path targets.
type Class string

const (
	ClassTaskDirect    Class = "task-direct"
	ClassTaskStatus    Class = "task-status"
	ClassCommentOnTask Class = "comment-on-task"
	ClassCommentDirect Class = "comment-direct"
	ClassUnrelated     Class = "unrelated"
)

// Resource is the resolved target of a request path. HasTaskID is false
// when a task/comment path carried no parseable task id; that is a hard
// deny signal for the decision engine, never a pass-through.
type Resource struct {
	Class     Class
	TaskID    int64
	HasTaskID bool
}

// Resolve tokenizes the path and scans for a segment literally equal to
// "tasks" or "task", parsing the following segment as the task id. Comment
// paths of the shape .../comments/task/{id}/... resolve the embedded id the
// same way. Malformed paths come back unrelated or without a task id.
func Resolve(path string) Resource {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	commentIdx := -1
	taskIdx := -1
	for i, s := range segments {
		if s == "comments" && commentIdx == -1 {
			commentIdx = i
		}
		if (s == "tasks" || s == "task") && taskIdx == -1 {
			taskIdx = i
		}
	}

	if commentIdx >= 0 && (taskIdx == -1 || taskIdx > commentIdx) {
		// Comment path; a task id only counts when embedded as
		// .../comments/task/{id}.
		if taskIdx == commentIdx+1 && taskIdx+1 < len(segments) {
			if id, err := strconv.ParseInt(segments[taskIdx+1], 10, 64); err == nil {
				return Resource{Class: ClassCommentOnTask, TaskID: id, HasTaskID: true}
			}
			return Resource{Class: ClassCommentOnTask}
		}
		return Resource{Class: ClassCommentDirect}
	}

	if taskIdx >= 0 {
		if taskIdx+1 < len(segments) {
			if id, err := strconv.ParseInt(segments[taskIdx+1], 10, 64); err == nil {
				if taskIdx+2 < len(segments) && segments[taskIdx+2] == "status" {
					return Resource{Class: ClassTaskStatus, TaskID: id, HasTaskID: true}
				}
				return Resource{Class: ClassTaskDirect, TaskID: id, HasTaskID: true}
			}
		}
		return Resource{Class: ClassTaskDirect}
	}

	return Resource{Class: ClassUnrelated}
}
