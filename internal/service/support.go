package service

import (
	"context"
	"sort"
	"strings"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// TicketInput opens a support ticket.
type TicketInput struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// CreateTicket opens a ticket for the caller's pharmacy.
func (s *Service) CreateTicket(ctx context.Context, p domain.Principal, in TicketInput) (*domain.SupportTicket, error) {
	const op = "support.CreateTicket"
	scope, err := tenantScope(op, p, "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, domain.Invalid(op, "subject is required")
	}
	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	switch priority {
	case "":
		priority = "medium"
	case "low", "medium", "high", "urgent":
	default:
		return nil, domain.Invalid(op, "unknown priority %q", in.Priority)
	}

	var out *domain.SupportTicket
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermCreateSupportTickets, scope); err != nil {
			return err
		}
		now := s.now()
		t := &domain.SupportTicket{
			ID:          s.newID(),
			PharmacyID:  scope,
			Subject:     strings.TrimSpace(in.Subject),
			Description: in.Description,
			Priority:    priority,
			Status:      domain.TicketOpen,
			Replies:     []domain.TicketReply{},
			CreatedBy:   p.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := u.InsertTicket(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReplyToTicket appends a message. Platform replies need MANAGE_SUPPORT;
// tenants may reply on their own tickets.
func (s *Service) ReplyToTicket(ctx context.Context, p domain.Principal, ticketID, message string) (*domain.SupportTicket, error) {
	const op = "support.Reply"
	if strings.TrimSpace(message) == "" {
		return nil, domain.Invalid(op, "message is required")
	}
	return s.mutateTicket(ctx, op, p, ticketID, func(u *unit, t *domain.SupportTicket) error {
		perm := domain.PermCreateSupportTickets
		if p.IsPlatform() {
			perm = domain.PermManageSupport
		}
		if err := u.authorize(ctx, perm, t.PharmacyID); err != nil {
			return err
		}
		if t.Status == domain.TicketClosed && !p.IsPlatform() {
			return domain.Conflict(op, "ticket is closed")
		}
		t.AddReply(domain.TicketReply{
			ID:         s.newID(),
			AuthorID:   p.UserID,
			AuthorName: p.Name,
			FromStaff:  p.IsPlatform(),
			Message:    strings.TrimSpace(message),
			CreatedAt:  s.now(),
		})
		return nil
	})
}

// AssignTicket hands a ticket to a platform staff member.
func (s *Service) AssignTicket(ctx context.Context, p domain.Principal, ticketID, assigneeID string) (*domain.SupportTicket, error) {
	const op = "support.Assign"
	return s.mutateTicket(ctx, op, p, ticketID, func(u *unit, t *domain.SupportTicket) error {
		if err := u.authorize(ctx, domain.PermManageSupport, t.PharmacyID); err != nil {
			return err
		}
		assignee, err := u.GetUser(ctx, assigneeID)
		if err != nil {
			return err
		}
		if !assignee.Role.IsPlatform() {
			return domain.Invalid(op, "tickets can only be assigned to platform staff")
		}
		t.AssignedTo = assignee.ID
		t.UpdatedAt = s.now()
		return nil
	})
}

// SetTicketStatus moves a ticket between Open, In Progress and Closed.
func (s *Service) SetTicketStatus(ctx context.Context, p domain.Principal, ticketID string, status domain.TicketStatus) (*domain.SupportTicket, error) {
	const op = "support.SetStatus"
	if !status.Valid() {
		return nil, domain.Invalid(op, "unknown status %q", status)
	}
	return s.mutateTicket(ctx, op, p, ticketID, func(u *unit, t *domain.SupportTicket) error {
		if err := u.authorize(ctx, domain.PermManageSupport, t.PharmacyID); err != nil {
			return err
		}
		t.Status = status
		t.UpdatedAt = s.now()
		return nil
	})
}

func (s *Service) mutateTicket(ctx context.Context, op string, p domain.Principal, id string, change func(u *unit, t *domain.SupportTicket) error) (*domain.SupportTicket, error) {
	scope, err := s.scopeOf(ctx, p, func(ctx context.Context, tx store.Tx) (string, error) {
		t, err := tx.GetTicket(ctx, id)
		if err != nil {
			return "", err
		}
		return t.PharmacyID, nil
	})
	if err != nil {
		return nil, err
	}
	var out *domain.SupportTicket
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		t, err := u.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if err := change(u, t); err != nil {
			return err
		}
		if err := u.UpdateTicket(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTickets lists tickets, most recently active first.
func (s *Service) ListTickets(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.SupportTicket, error) {
	const op = "support.List"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.SupportTicket
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		perm := domain.PermCreateSupportTickets
		if p.IsPlatform() {
			perm = domain.PermManageSupport
		}
		if err := u.authorize(ctx, perm, scope); err != nil {
			return err
		}
		var err error
		out, err = u.ListTickets(ctx, scope)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, err
}
