package buildconfig

import (
	"strings"

	"github.com/boxci-run/agent/internal/apiclient"
)

// matches implements spec.md §4.5's wildcard rule: at most the first '*'
// in pattern is significant; any further '*'s are literal.
func matches(pattern, ref string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == ref {
		return true
	}
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return false
	}
	switch {
	case i == 0:
		return strings.HasSuffix(ref, pattern[1:])
	case i == len(pattern)-1:
		return strings.HasPrefix(ref, pattern[:len(pattern)-1])
	default:
		return strings.HasPrefix(ref, pattern[:i]) && strings.HasSuffix(ref, pattern[i+1:])
	}
}

// MatchPipeline returns the first pipeline (in declaration order) whose
// name matches ref, and the task list resolved to full ProjectBuildTask
// records (name + command), or ok=false if nothing matches.
func (c *Config) MatchPipeline(ref string) (name string, pipeline *apiclient.ProjectBuildPipeline, ok bool) {
	var matchedName string
	var matchedTasks []string
	found := false
	c.Pipelines.Range(func(pname string, taskNames []string) error {
		if found {
			return nil
		}
		if matches(pname, ref) {
			matchedName, matchedTasks, found = pname, taskNames, true
		}
		return nil
	})
	if !found {
		return "", nil, false
	}

	tasks := make([]apiclient.ProjectBuildTask, 0, len(matchedTasks))
	for _, tn := range matchedTasks {
		cmd, _ := c.Tasks.Get(tn)
		tasks = append(tasks, apiclient.ProjectBuildTask{Name: tn, Command: cmd})
	}
	return matchedName, &apiclient.ProjectBuildPipeline{Name: matchedName, Tasks: tasks}, true
}
