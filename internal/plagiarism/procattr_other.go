//go:build !unix

package plagiarism

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
