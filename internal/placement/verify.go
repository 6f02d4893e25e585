package placement

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// ErrMemberMismatch is returned when the launch comes from another Bitrix24 account.
var ErrMemberMismatch = fmt.Errorf("placement: member_id does not match: %w", httpx.ErrForbidden)

// Verifier accepts or rejects a launch before a session is created. It may
// rewrite p.Domain to its canonical form.
type Verifier interface {
	Verify(ctx context.Context, p *Placement) error
}

// PortalUsers resolves the user behind placement credentials.
type PortalUsers interface {
	CurrentUser(ctx context.Context) (bitrix.User, error)
}

// PortalVerifier admits launches from allow-listed portals whose access token
// the portal itself confirms.
type PortalVerifier struct {
	users    PortalUsers
	origins  []string
	memberID string
}

// NewPortalVerifier constructs a verifier. An empty memberID skips the account check.
func NewPortalVerifier(users PortalUsers, origins []string, memberID string) *PortalVerifier {
	return &PortalVerifier{users: users, origins: origins, memberID: memberID}
}

// Verify checks the portal origin, the account and then the token with user.current.
func (v *PortalVerifier) Verify(ctx context.Context, p *Placement) error {
	origin, err := bitrix.NormalizeOrigin(p.Domain)
	if err != nil || !slices.Contains(v.origins, origin) {
		return fmt.Errorf("placement: domain %q: %w", p.Domain, bitrix.ErrForeignPortal)
	}
	if v.memberID != "" && p.MemberID != v.memberID {
		return ErrMemberMismatch
	}
	authCtx := bitrix.ContextWithAuth(ctx, bitrix.Auth{Domain: origin, AccessToken: p.AuthID})
	if _, err := v.users.CurrentUser(authCtx); err != nil {
		if errors.Is(err, httpx.ErrUnavailable) || errors.Is(err, httpx.ErrForbidden) {
			return err
		}
		return fmt.Errorf("placement: token rejected by %s: %w: %v", origin, httpx.ErrUnauthorized, err)
	}
	p.Domain = origin
	return nil
}
