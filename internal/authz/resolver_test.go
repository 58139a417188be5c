package authz

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		path string
		want Resource
	}{
		{"/api/tasks/42", Resource{Class: ClassTaskDirect, TaskID: 42, HasTaskID: true}},
		{"/api/tasks/42/status", Resource{Class: ClassTaskStatus, TaskID: 42, HasTaskID: true}},
		{"/api/tasks/abc", Resource{Class: ClassTaskDirect}},
		{"/api/tasks", Resource{Class: ClassTaskDirect}},
		{"/api/tasks/author/3", Resource{Class: ClassTaskDirect}},
		{"/api/comments/task/7", Resource{Class: ClassCommentOnTask, TaskID: 7, HasTaskID: true}},
		{"/api/comments/task/xyz", Resource{Class: ClassCommentOnTask}},
		{"/api/comments/5", Resource{Class: ClassCommentDirect}},
		{"/api/comments", Resource{Class: ClassCommentDirect}},
		{"/api/comments/user/3", Resource{Class: ClassCommentDirect}},
		{"/api/users/9", Resource{Class: ClassUnrelated}},
		{"/", Resource{Class: ClassUnrelated}},
		// "tasks" after "comments" without the task/{id} shape stays a
		// comment path with no id.
		{"/api/comments/tasks/7", Resource{Class: ClassCommentOnTask, TaskID: 7, HasTaskID: true}},
	}
	for _, tc := range cases {
		got := Resolve(tc.path)
		if got != tc.want {
			t.Errorf("Resolve(%q) = %+v, want %+v", tc.path, got, tc.want)
		}
	}
}
