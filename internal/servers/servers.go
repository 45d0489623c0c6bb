// Package servers manages the registry of VPS hosts and the admin-only
// operations that talk to them directly.
package servers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/crypto"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/logutil"
	"github.com/painelssh/sshpanel/internal/sshexec"
	"gorm.io/gorm"
)

// Commander is the part of agent.Client used here.
type Commander interface {
	Run(ctx context.Context, t agent.Target, cmd agent.Command) (string, error)
}

// Input carries server fields from the API. Empty SSHPassword or AgentSecret
// on update keeps the stored value.
type Input struct {
	Name        string                `json:"name"`
	Address     string                `json:"address"`
	Port        int                   `json:"port"`
	AgentPort   int                   `json:"agent_port"`
	SSHUser     string                `json:"ssh_user"`
	SSHPassword string                `json:"ssh_password"`
	AgentSecret string                `json:"agent_secret"`
	Status      database.ServerStatus `json:"status"`
	// ResetHostKey forgets the pinned host key so the next connection
	// pins whatever key the server presents.
	ResetHostKey bool `json:"reset_host_key"`
}

type Service struct {
	db       *gorm.DB
	vault    *crypto.Vault
	resolver *Resolver
	agent    Commander
	ssh      *sshexec.Runner
}

func NewService(db *gorm.DB, vault *crypto.Vault, resolver *Resolver, commander Commander, ssh *sshexec.Runner) *Service {
	return &Service{db: db, vault: vault, resolver: resolver, agent: commander, ssh: ssh}
}

func requireAdmin(actor authz.Actor) error {
	if d := authz.CanAct(actor, authz.ActionManageServers, authz.Target{}); !d.Allowed {
		return apperr.Forbidden(d.Reason)
	}
	return nil
}

func (in *Input) validate(creating bool) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	in.SSHUser = strings.TrimSpace(in.SSHUser)
	if in.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	if in.Address == "" {
		return apperr.Invalid("address", "is required")
	}
	if in.Port == 0 {
		in.Port = 22
	}
	if in.Port < 1 || in.Port > 65535 {
		return apperr.Invalid("port", "must be between 1 and 65535")
	}
	if in.AgentPort < 0 || in.AgentPort > 65535 {
		return apperr.Invalid("agent_port", "must be between 0 and 65535")
	}
	if in.SSHUser == "" {
		in.SSHUser = "root"
	}
	if creating && in.SSHPassword == "" {
		return apperr.Invalid("ssh_password", "is required")
	}
	if in.Status == "" {
		in.Status = database.ServerActive
	}
	if !in.Status.Valid() {
		return apperr.Invalid("status", "unknown status %q", in.Status)
	}
	return nil
}

// List returns every server. Any authenticated actor may list servers to pick
// one when creating credentials; secrets never leave the database.
func (s *Service) List(ctx context.Context) ([]database.Server, error) {
	return database.ListServers(s.db.WithContext(ctx))
}

func (s *Service) Create(ctx context.Context, actor authz.Actor, in Input) (*database.Server, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(true); err != nil {
		return nil, err
	}
	srv := database.Server{
		Name: in.Name, Address: in.Address, Port: in.Port, AgentPort: in.AgentPort,
		SSHUser: in.SSHUser, Status: in.Status,
	}
	if err := s.sealSecrets(&srv, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&srv).Error; err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	log.Printf("[servers] created server %d (%s)", srv.ID, logutil.SanitizeForLog(srv.Name))
	return &srv, nil
}

func (s *Service) Update(ctx context.Context, actor authz.Actor, id uint, in Input) (*database.Server, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(false); err != nil {
		return nil, err
	}
	srv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.ResetHostKey || in.Address != srv.Address || in.Port != srv.Port {
		srv.HostKeyFingerprint = ""
	}
	srv.Name, srv.Address, srv.Port, srv.AgentPort = in.Name, in.Address, in.Port, in.AgentPort
	srv.SSHUser, srv.Status = in.SSHUser, in.Status
	if err := s.sealSecrets(srv, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(srv).Error; err != nil {
		return nil, fmt.Errorf("update server: %w", err)
	}
	return srv, nil
}

// Delete removes a server that no longer carries credentials.
func (s *Service) Delete(ctx context.Context, actor authz.Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	srv, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&database.SSHAccess{}).Where("server_id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("count credentials: %w", err)
	}
	if n > 0 {
		return apperr.Invalid("server", "still has %d credentials", n)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("server_id = ?", id).Delete(&database.SSHTest{}).Error; err != nil {
			return err
		}
		return tx.Delete(srv).Error
	})
}

// Test opens an SSH session with the stored login.
func (s *Service) Test(ctx context.Context, actor authz.Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	srv, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	ep, err := s.endpoint(ctx, srv)
	if err != nil {
		return err
	}
	if err := s.ssh.Test(ctx, ep); err != nil {
		log.Printf("[servers] connection test for %s failed: %v", logutil.SanitizeForLog(srv.Name), err)
		return err
	}
	return nil
}

// Command runs an arbitrary shell command over SSH.
func (s *Service) Command(ctx context.Context, actor authz.Actor, id uint, command string) (sshexec.Output, error) {
	if err := requireAdmin(actor); err != nil {
		return sshexec.Output{}, err
	}
	if strings.TrimSpace(command) == "" {
		return sshexec.Output{}, apperr.Invalid("command", "is required")
	}
	srv, err := s.get(ctx, id)
	if err != nil {
		return sshexec.Output{}, err
	}
	ep, err := s.endpoint(ctx, srv)
	if err != nil {
		return sshexec.Output{}, err
	}
	return s.ssh.Run(ctx, ep, command)
}

// Resources samples CPU, memory and disk usage through the agent.
func (s *Service) Resources(ctx context.Context, actor authz.Actor, id uint) (agent.Resources, error) {
	if err := requireAdmin(actor); err != nil {
		return agent.Resources{}, err
	}
	srv, err := s.get(ctx, id)
	if err != nil {
		return agent.Resources{}, err
	}
	target, err := s.resolver.Target(srv)
	if err != nil {
		return agent.Resources{}, err
	}
	body, err := s.agent.Run(context.WithoutCancel(ctx), target, agent.ResourceProbe())
	if err != nil {
		return agent.Resources{}, err
	}
	return agent.ParseResources(body), nil
}

// endpoint resolves srv's SSH login and pins the host key on first use.
func (s *Service) endpoint(ctx context.Context, srv *database.Server) (sshexec.Endpoint, error) {
	ep, err := s.resolver.Endpoint(srv)
	if err != nil {
		return ep, err
	}
	id := srv.ID
	ep.Pin = func(fingerprint string) error {
		// Only an unpinned row takes the key; a concurrent first connect
		// keeps whichever key landed first.
		return s.db.WithContext(context.WithoutCancel(ctx)).Model(&database.Server{}).
			Where("id = ? AND host_key_fingerprint = ?", id, "").
			Update("host_key_fingerprint", fingerprint).Error
	}
	return ep, nil
}

func (s *Service) get(ctx context.Context, id uint) (*database.Server, error) {
	srv, err := database.GetServer(s.db.WithContext(ctx), id)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("server")
		}
		return nil, fmt.Errorf("load server: %w", err)
	}
	return srv, nil
}

func (s *Service) sealSecrets(srv *database.Server, in Input) error {
	if in.SSHPassword != "" {
		enc, err := s.vault.Encrypt(in.SSHPassword)
		if err != nil {
			return fmt.Errorf("encrypt ssh password: %w", err)
		}
		srv.SSHPassword = enc
	}
	if in.AgentSecret != "" {
		enc, err := s.vault.Encrypt(in.AgentSecret)
		if err != nil {
			return fmt.Errorf("encrypt agent secret: %w", err)
		}
		srv.AgentSecret = enc
	}
	return nil
}
