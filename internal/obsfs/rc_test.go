package obsfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOscrc(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".oscrc")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestReadAccountPlainPassword(t *testing.T) {
	path := writeOscrc(t, "[api.opensuse.org]\nuser = alice\npass = hunter2\n")

	acc, err := ReadAccount(path, "api.opensuse.org")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.User)
	assert.Equal(t, "hunter2", acc.Pass)
}

func TestReadAccountHostPrefixMatch(t *testing.T) {
	path := writeOscrc(t, "[https://api.opensuse.org]\nuser = alice\npass = hunter2\n")

	acc, err := ReadAccount(path, "api.opensuse.org")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.User)
}

func TestReadAccountNoMatchingSection(t *testing.T) {
	path := writeOscrc(t, "[build.opensuse.org]\nuser = alice\npass = hunter2\n")

	_, err := ReadAccount(path, "api.opensuse.org")
	assert.Error(t, err)
}

func TestReadAccountMissingPasswordSkipped(t *testing.T) {
	path := writeOscrc(t, "[api.opensuse.org]\nuser = alice\n")

	_, err := ReadAccount(path, "api.opensuse.org")
	assert.Error(t, err)
}

func TestDecodePassX(t *testing.T) {
	// base64(bzip2("hunter2"))
	encoded := "QlpoOTFBWSZTWSmhdgIAAAEJgBAAAkEWACAAIhpjUIYCXiB4u5IpwoSBTQuwEA=="
	decoded, err := decodePassX(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", decoded)
}
