package shared

// JobLockKey builds the redis key guarding a scheduled job against concurrent runs.
func JobLockKey(taskType string) string {
	return "clinic:jobs:" + taskType + ":lock"
}
