//go:build !unix

package invoker

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
