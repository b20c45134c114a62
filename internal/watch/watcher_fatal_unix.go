// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import "syscall"

// fatalErrnos are the inotify resource limits: the watch limit (ENOSPC)
// and the process or system descriptor limits (EMFILE, ENFILE).
var fatalErrnos = []syscall.Errno{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE}
