package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Commands(t *testing.T) {
	root := RootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t,
		[]string{"run", "submit", "cancel", "delete", "list", "get", "results", "geography", "reconcile"},
		names)
	assert.NotNil(t, root.PersistentFlags().Lookup(CustomConfigLocation))
}

func TestCancelCmd_RequiresJobId(t *testing.T) {
	root := RootCmd()
	root.SetArgs([]string{"cancel"})
	assert.Error(t, root.Execute())
}
