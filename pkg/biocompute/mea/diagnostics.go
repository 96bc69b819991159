package mea

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshConnectTimeout = 10 * time.Second

// fetchControllerLog retrieves the last n lines of the controller's firmware
// log over SSH. The embedded controllers only speak legacy key exchange.
func (a *SensorArray) fetchControllerLog(lines int) (string, error) {
	addr := a.controllerAddr
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}

	sshConfig := &ssh.ClientConfig{
		User: a.sshUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(a.sshPassword),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshConnectTimeout,
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"ssh-dss",
		},
	}

	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return "", fmt.Errorf("failed to connect to controller: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(fmt.Sprintf("tail -n %d /var/log/mea-controller.log", lines))
	if err != nil {
		return "", fmt.Errorf("failed to read controller log: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}
