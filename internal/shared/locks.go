package shared

import "fmt"

// JobLockKey builds redis keys guarding single-runner background jobs.
func JobLockKey(job string) string {
	return fmt.Sprintf("stockledger:job:%s:lock", job)
}
