package cmd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A startup failure such as a busy port must surface right away, not after
// the shutdown window has been sat out on a drain gate with nothing in it.
func TestServeExitsPromptlyOnListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	dir := t.TempDir()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("server.addr", ln.Addr().String())
	viper.Set("storage.db_path", filepath.Join(dir, "conduit.db"))
	viper.Set("storage.agents_dir", filepath.Join(dir, "agents"))
	viper.Set("scheduler.enabled", false)
	viper.Set("log.level", "error")

	c := &cobra.Command{}
	c.SetContext(context.Background())

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- runServe(c, nil) }()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not exit after the listen failure")
	}
}
