package servers

import (
	"fmt"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/crypto"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/sshexec"
)

// Resolver turns stored servers into agent targets and SSH endpoints,
// decrypting their secrets. Servers registered without an agent secret use
// the fallback.
type Resolver struct {
	vault    *crypto.Vault
	fallback string
}

func NewResolver(vault *crypto.Vault, fallbackSecret string) *Resolver {
	return &Resolver{vault: vault, fallback: fallbackSecret}
}

func (r *Resolver) Target(srv *database.Server) (agent.Target, error) {
	secret, err := r.vault.Decrypt(srv.AgentSecret)
	if err != nil {
		return agent.Target{}, fmt.Errorf("agent secret for server %d: %w", srv.ID, err)
	}
	if secret == "" {
		secret = r.fallback
	}
	return agent.Target{
		Name:    srv.Name,
		Address: srv.Address,
		Port:    srv.AgentPort,
		Secret:  secret,
	}, nil
}

func (r *Resolver) Endpoint(srv *database.Server) (sshexec.Endpoint, error) {
	pass, err := r.vault.Decrypt(srv.SSHPassword)
	if err != nil {
		return sshexec.Endpoint{}, fmt.Errorf("ssh password for server %d: %w", srv.ID, err)
	}
	return sshexec.Endpoint{
		Host:     srv.Address,
		Port:     srv.Port,
		User:     srv.SSHUser,
		Password: pass,
		HostKey:  srv.HostKeyFingerprint,
	}, nil
}
