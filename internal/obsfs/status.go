package obsfs

import (
	"encoding/xml"
	"io"
	"syscall"
)

// statusCodes maps the openSUSE Build Service's <status code="..."/>
// values to the POSIX errno they should surface as, one-to-one with
// original_source/status.c's statuses[] table.
var statusCodes = map[string]syscall.Errno{
	"access_no_permission":                syscall.EPERM,
	"binary_download_no_permission":       syscall.EPERM,
	"change_attribute_no_permission":      syscall.EPERM,
	"change_package_protection_level":     syscall.EPERM,
	"change_project_no_permission":        syscall.EPERM,
	"change_project_protection_level":     syscall.EPERM,
	"cmd_execution_no_permission":         syscall.EPERM,
	"create_project_no_permission":        syscall.EPERM,
	"delete_file_no_permission":           syscall.EPERM,
	"delete_project_no_permission":        syscall.EPERM,
	"delete_project_pubkey_no_permission": syscall.EPERM,
	"download_binary_no_permission":       syscall.EPERM,
	"double_branch_package":               syscall.EEXIST,
	"illegal_request":                     syscall.EINVAL,
	"invalid_filelist":                    syscall.EINVAL,
	"invalid_flag":                        syscall.EINVAL,
	"invalid_package_name":                syscall.EINVAL,
	"invalid_project_name":                syscall.EINVAL,
	"invalid_xml":                         syscall.EINVAL,
	"internal_error":                      syscall.EBADF,
	"modify_project_no_permission":        syscall.EPERM,
	"no_matched_binaries":                 syscall.ENOENT,
	"not_found":                           syscall.ENOENT,
	"project_name_mismatch":               syscall.EINVAL,
	"put_file_no_permission":              syscall.EPERM,
	"put_project_config_no_permission":    syscall.EPERM,
	"save_error":                          syscall.EIO,
	"source_access_no_permission":         syscall.EPERM,
	"spec_file_exists":                    syscall.EEXIST,
	"unknown_operation":                   syscall.EINVAL,
	"unknown_package":                     syscall.ENOENT,
	"unknown_project":                     syscall.ENOENT,
	"unknown_repository":                  syscall.ENOENT,
}

// ParseStatusResponse reads a <status code="..."/> document, as returned
// by a PUT/DELETE against the build service, and maps it to the errno it
// represents. A code absent from statusCodes, or a body with no <status>
// element at all (success responses have none), yields nil: the caller
// should treat that as success.
func ParseStatusResponse(r io.Reader) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return nil
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "status" {
			continue
		}
		for _, a := range start.Attr {
			if a.Name.Local != "code" {
				continue
			}
			if errno, known := statusCodes[a.Value]; known {
				return errno
			}
		}
	}
}
