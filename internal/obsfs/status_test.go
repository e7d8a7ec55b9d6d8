package obsfs

import (
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatusResponseKnownCode(t *testing.T) {
	err := ParseStatusResponse(strings.NewReader(`<status code="not_found"><summary>no such project</summary></status>`))
	assert.Equal(t, syscall.ENOENT, err)
}

func TestParseStatusResponsePermissionCode(t *testing.T) {
	err := ParseStatusResponse(strings.NewReader(`<status code="put_file_no_permission"/>`))
	assert.Equal(t, syscall.EPERM, err)
}

func TestParseStatusResponseUnknownCodeIsNil(t *testing.T) {
	err := ParseStatusResponse(strings.NewReader(`<status code="something_new_the_server_added"/>`))
	assert.NoError(t, err)
}

func TestParseStatusResponseNoStatusElementIsSuccess(t *testing.T) {
	err := ParseStatusResponse(strings.NewReader(`<directory><entry name="foo"/></directory>`))
	assert.NoError(t, err)
}

func TestParseStatusResponseEmptyBodyIsSuccess(t *testing.T) {
	err := ParseStatusResponse(strings.NewReader(``))
	assert.NoError(t, err)
}
