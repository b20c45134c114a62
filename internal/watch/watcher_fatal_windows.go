// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import "syscall"

// fatalErrnos are the Win32 errors after which ReadDirectoryChangesW cannot
// continue: too many open files, invalid handle and out of memory.
var fatalErrnos = []syscall.Errno{4, 6, 8}
