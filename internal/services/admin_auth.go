package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"eddm-registry/internal/auth"
	"eddm-registry/internal/config"
	"eddm-registry/internal/logger"
	"eddm-registry/internal/models"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrNotAdmin             = errors.New("account is not an administrator")
	ErrDirectoryUnavailable = errors.New("ldap connection failed")
)

type AdminAuthService struct {
	db   bun.IDB
	jwt  *auth.JWTManager
	cfg  *config.Config
	logr *logger.Logger
	dial func(url string) (ldapConn, error)
}

// ldapConn is the part of *ldap.Conn the login uses.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

func NewAdminAuthService(db bun.IDB, jwt *auth.JWTManager, cfg *config.Config, logr *logger.Logger) *AdminAuthService {
	return &AdminAuthService{
		db:   db,
		jwt:  jwt,
		cfg:  cfg,
		logr: logr,
		dial: func(url string) (ldapConn, error) {
			l, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}))
			if err != nil {
				return nil, err
			}
			l.SetTimeout(30 * time.Second)
			return l, nil
		},
	}
}

// HashPassword uses bcrypt
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func ComparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

type AdminInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	Roles    []string `json:"roles"`
}

func adminInfo(u models.AdminUser) *AdminInfo {
	return &AdminInfo{
		ID:       u.ID.String(),
		Email:    u.Email,
		Name:     u.Name,
		Provider: u.Provider,
		Roles:    u.Roles,
	}
}

// EnsureLocalAdmin creates the bootstrap admin account if no account with that email exists.
func (s *AdminAuthService) EnsureLocalAdmin(ctx context.Context, email, name, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return fmt.Errorf("email and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	u := models.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{models.RoleAdmin},
		Provider:     "local",
		Name:         name,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.NewInsert().Model(&u).On("CONFLICT (email) DO NOTHING").Exec(ctx)
	return err
}

// LoginLocal checks a bcrypt password and issues an access token.
func (s *AdminAuthService) LoginLocal(ctx context.Context, email, password string) (*auth.Token, *AdminInfo, error) {
	var u models.AdminUser
	err := s.db.NewSelect().Model(&u).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if u.PasswordHash == "" {
		return nil, nil, fmt.Errorf("account not configured for local login")
	}
	if err := ComparePassword(u.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !u.HasRole(models.RoleAdmin) {
		return nil, nil, ErrNotAdmin
	}

	s.touchLastLogin(ctx, u.ID)

	tok, err := s.jwt.GenerateAccessToken(u.ID.String(), s.cfg.AccessTokenTTL, u.TokenVersion, "local", u.Roles)
	if err != nil {
		return nil, nil, err
	}
	return tok, adminInfo(u), nil
}

// LoginLDAP binds as the user, reads the directory entry and provisions the admin account
// on first login. Membership of the configured admin group grants the admin role.
func (s *AdminAuthService) LoginLDAP(ctx context.Context, ldapUser, ldapPass string) (*auth.Token, *AdminInfo, error) {
	if s.cfg.LDAPServer == "" {
		return nil, nil, ErrDirectoryUnavailable
	}
	if strings.TrimSpace(ldapPass) == "" {
		// an empty password would be an unauthenticated bind
		return nil, nil, ErrInvalidCredentials
	}

	cleanUsername := strings.TrimSpace(ldapUser)
	if domain := s.cfg.LDAPUserDomain; domain != "" {
		suffix := "@" + strings.ToLower(domain)
		if strings.HasSuffix(strings.ToLower(cleanUsername), suffix) {
			cleanUsername = cleanUsername[:len(cleanUsername)-len(suffix)]
		}
	}

	l, err := s.dial(s.cfg.LDAPServer)
	if err != nil {
		s.logr.Error("LDAP dial failed", zap.Error(err), zap.String("server", s.cfg.LDAPServer))
		return nil, nil, ErrDirectoryUnavailable
	}
	defer func() {
		if closeErr := l.Close(); closeErr != nil {
			s.logr.Debug("LDAP close error", zap.Error(closeErr))
		}
	}()

	userDN := cleanUsername
	if s.cfg.LDAPUserDomain != "" {
		userDN = fmt.Sprintf("%s@%s", cleanUsername, strings.ToUpper(s.cfg.LDAPUserDomain))
	}
	if err := l.Bind(userDN, ldapPass); err != nil {
		s.logr.Warn("LDAP bind failed", zap.String("username", cleanUsername))
		return nil, nil, ErrInvalidCredentials
	}

	searchReq := ldap.NewSearchRequest(
		s.cfg.LDAPBaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(cleanUsername)),
		[]string{"cn", "mail", "memberOf", "displayName"},
		nil,
	)
	sr, err := l.Search(searchReq)
	if err != nil {
		s.logr.Error("LDAP search failed", zap.Error(err), zap.String("username", cleanUsername))
		return nil, nil, fmt.Errorf("user lookup failed")
	}
	if len(sr.Entries) == 0 {
		s.logr.Warn("LDAP: no entry found", zap.String("username", cleanUsername))
		return nil, nil, ErrInvalidCredentials
	}

	entry := sr.Entries[0]
	mail := strings.ToLower(entry.GetAttributeValue("mail"))
	if mail == "" {
		s.logr.Error("LDAP user missing email", zap.String("username", cleanUsername))
		return nil, nil, fmt.Errorf("user account missing email")
	}
	fullName := entry.GetAttributeValue("displayName")
	if fullName == "" {
		fullName = entry.GetAttributeValue("cn")
	}
	if fullName == "" {
		fullName = cleanUsername
	}

	var roles []string
	if s.inAdminGroup(entry.GetAttributeValues("memberOf")) {
		roles = []string{models.RoleAdmin}
	}

	u, err := s.provisionLDAPUser(ctx, mail, fullName, roles)
	if err != nil {
		s.logr.Error("failed to provision admin", zap.Error(err), zap.String("email", mail))
		return nil, nil, fmt.Errorf("database error")
	}
	if !u.HasRole(models.RoleAdmin) {
		s.logr.Warn("LDAP user without admin role", zap.String("email", mail))
		return nil, nil, ErrNotAdmin
	}

	s.touchLastLogin(ctx, u.ID)

	tok, err := s.jwt.GenerateAccessToken(u.ID.String(), s.cfg.AccessTokenTTL, u.TokenVersion, "ldap", u.Roles)
	if err != nil {
		s.logr.Error("token generation failed", zap.Error(err), zap.String("user_id", u.ID.String()))
		return nil, nil, fmt.Errorf("failed to generate tokens")
	}

	s.logr.Info("LDAP login successful", zap.String("user_id", u.ID.String()), zap.String("username", cleanUsername))
	return tok, adminInfo(u), nil
}

func (s *AdminAuthService) inAdminGroup(groups []string) bool {
	if s.cfg.LDAPAdminGroup == "" {
		return false
	}
	for _, g := range groups {
		if strings.EqualFold(g, s.cfg.LDAPAdminGroup) {
			return true
		}
	}
	return false
}

// provisionLDAPUser upserts the directory account. Directory membership only ever adds the
// admin role; roles granted in the database are kept.
func (s *AdminAuthService) provisionLDAPUser(ctx context.Context, email, name string, roles []string) (models.AdminUser, error) {
	var u models.AdminUser
	err := s.db.NewSelect().Model(&u).Where("email = ?", email).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		u = models.AdminUser{
			ID:        uuid.New(),
			Email:     email,
			Provider:  "ldap",
			Name:      name,
			Roles:     roles,
			CreatedAt: time.Now().UTC(),
		}
		if u.Roles == nil {
			u.Roles = []string{}
		}
		if _, err := s.db.NewInsert().Model(&u).Exec(ctx); err != nil {
			return models.AdminUser{}, err
		}
		s.logr.Info("created LDAP admin account", zap.String("email", email), zap.String("id", u.ID.String()))
		return u, nil
	case err != nil:
		return models.AdminUser{}, err
	}

	changed := u.Provider != "ldap"
	for _, r := range roles {
		if !u.HasRole(r) {
			u.Roles = append(u.Roles, r)
			changed = true
		}
	}
	if changed {
		u.Provider = "ldap"
		_, err = s.db.NewUpdate().Model(&u).
			Column("provider", "roles").
			WherePK().
			Exec(ctx)
		if err != nil {
			return models.AdminUser{}, err
		}
	}
	return u, nil
}

func (s *AdminAuthService) touchLastLogin(ctx context.Context, id uuid.UUID) {
	_, err := s.db.NewUpdate().
		Model((*models.AdminUser)(nil)).
		Set("last_login_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		s.logr.Warn("failed to update last login", zap.Error(err), zap.String("user_id", id.String()))
	}
}

// CheckTokenVersion reports whether a token issued at tokenVersion is still current.
// Bumping token_version revokes every outstanding token for the account.
func (s *AdminAuthService) CheckTokenVersion(ctx context.Context, userID string, tokenVersion int) (bool, error) {
	var user models.AdminUser
	err := s.db.NewSelect().Model(&user).Column("token_version").Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.TokenVersion == tokenVersion, nil
}
