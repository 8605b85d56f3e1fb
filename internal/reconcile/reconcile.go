// Package reconcile inspects the mirror for the damage the write path
// is allowed to let through: orphaned messages, duplicated wallets,
// malformed or colliding message identifiers, and journaled drift
// between chain and mirror. Checks are plain function calls over the
// store; nothing registers itself or runs on a schedule.
package reconcile

import (
	"context"
	"log/slog"

	"paygram/internal/driftlog"
	"paygram/internal/msgid"
	"paygram/internal/store"
)

type OrphanedMessage struct {
	RowID           string   `json:"rowId"`
	MessageID       string   `json:"messageId"`
	MissingProfiles []string `json:"missingProfiles"`
}

type DuplicateWallet struct {
	WalletAddress string   `json:"walletAddress"`
	ProfileIDs    []string `json:"profileIds"`
}

type MalformedMessageID struct {
	RowID     string `json:"rowId"`
	MessageID string `json:"messageId"`
}

type DuplicateMessageID struct {
	MessageID string   `json:"messageId"`
	RowIDs    []string `json:"rowIds"`
}

// Report is a full pass over the mirror plus the drift journal.
type Report struct {
	Profiles         int                  `json:"profiles"`
	Messages         int                  `json:"messages"`
	OrphanedMessages []OrphanedMessage    `json:"orphanedMessages"`
	DuplicateWallets []DuplicateWallet    `json:"duplicateWallets"`
	MalformedIDs     []MalformedMessageID `json:"malformedMessageIds"`
	DuplicateIDs     []DuplicateMessageID `json:"duplicateMessageIds"`
	DriftEntries     []driftlog.Entry     `json:"driftEntries,omitempty"`
}

// Clean reports whether the pass found nothing to complain about.
func (r *Report) Clean() bool {
	return len(r.OrphanedMessages) == 0 &&
		len(r.DuplicateWallets) == 0 &&
		len(r.MalformedIDs) == 0 &&
		len(r.DuplicateIDs) == 0 &&
		len(r.DriftEntries) == 0
}

type Reconciler struct {
	store   store.Store
	journal *driftlog.Journal
	log     *slog.Logger
}

func New(st store.Store, journal *driftlog.Journal, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, journal: journal, log: logger}
}

// Report runs every check against one snapshot of the mirror.
func (r *Reconciler) Report(ctx context.Context) (*Report, error) {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := r.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	drift, err := r.journal.Entries()
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Profiles:         len(profiles),
		Messages:         len(messages),
		OrphanedMessages: findOrphans(profiles, messages),
		DuplicateWallets: findDuplicateWallets(profiles),
		MalformedIDs:     findMalformedIDs(messages),
		DuplicateIDs:     findDuplicateIDs(messages),
		DriftEntries:     drift,
	}
	if !rep.Clean() {
		r.log.Warn("reconcile found inconsistencies",
			"orphans", len(rep.OrphanedMessages),
			"duplicateWallets", len(rep.DuplicateWallets),
			"malformedIds", len(rep.MalformedIDs),
			"duplicateIds", len(rep.DuplicateIDs),
			"drift", len(rep.DriftEntries),
		)
	}
	return rep, nil
}

// OrphanedMessages lists messages referencing profiles that no longer
// exist. The schema has no foreign keys, so these can accumulate.
func (r *Reconciler) OrphanedMessages(ctx context.Context) ([]OrphanedMessage, error) {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := r.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	return findOrphans(profiles, messages), nil
}

// DuplicateWallets lists wallet addresses that map to more than one
// profile row.
func (r *Reconciler) DuplicateWallets(ctx context.Context) ([]DuplicateWallet, error) {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return findDuplicateWallets(profiles), nil
}

func (r *Reconciler) MalformedMessageIDs(ctx context.Context) ([]MalformedMessageID, error) {
	messages, err := r.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	return findMalformedIDs(messages), nil
}

func (r *Reconciler) DuplicateMessageIDs(ctx context.Context) ([]DuplicateMessageID, error) {
	messages, err := r.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	return findDuplicateIDs(messages), nil
}

// DumpProfiles and DumpMessages back the debug endpoints.
func (r *Reconciler) DumpProfiles(ctx context.Context) ([]store.Profile, error) {
	return r.store.ListProfiles(ctx)
}

func (r *Reconciler) DumpMessages(ctx context.Context) ([]store.Message, error) {
	return r.store.ListMessages(ctx)
}

// RepairMessageIDs rewrites malformed identifiers and collides
// duplicates onto fresh ones; the earliest row keeps its id. Offline
// maintenance only: an approval racing a rewritten id will fail its
// lookup, which is accepted for a maintenance window.
func (r *Reconciler) RepairMessageIDs(ctx context.Context) (int, error) {
	messages, err := r.store.ListMessages(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(messages))
	repaired := 0
	for _, msg := range messages {
		if msgid.Valid(msg.MessageID) && !seen[msg.MessageID] {
			seen[msg.MessageID] = true
			continue
		}

		newID := msgid.New()
		for seen[newID] {
			newID = msgid.New()
		}
		if err := r.store.UpdateMessageID(ctx, msg.ID, newID); err != nil {
			return repaired, err
		}
		seen[newID] = true
		repaired++
		r.log.Info("rewrote message id", "rowId", msg.ID, "old", msg.MessageID, "new", newID)
	}
	return repaired, nil
}

func findOrphans(profiles []store.Profile, messages []store.Message) []OrphanedMessage {
	known := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		known[p.ID] = true
	}

	var out []OrphanedMessage
	for _, m := range messages {
		var missing []string
		if !known[m.SenderID] {
			missing = append(missing, m.SenderID)
		}
		if !known[m.RecipientID] && m.RecipientID != m.SenderID {
			missing = append(missing, m.RecipientID)
		}
		if len(missing) > 0 {
			out = append(out, OrphanedMessage{RowID: m.ID, MessageID: m.MessageID, MissingProfiles: missing})
		}
	}
	return out
}

func findDuplicateWallets(profiles []store.Profile) []DuplicateWallet {
	byWallet := make(map[string][]string)
	var order []string
	for _, p := range profiles {
		if len(byWallet[p.WalletAddress]) == 0 {
			order = append(order, p.WalletAddress)
		}
		byWallet[p.WalletAddress] = append(byWallet[p.WalletAddress], p.ID)
	}

	var out []DuplicateWallet
	for _, wallet := range order {
		if ids := byWallet[wallet]; len(ids) > 1 {
			out = append(out, DuplicateWallet{WalletAddress: wallet, ProfileIDs: ids})
		}
	}
	return out
}

func findMalformedIDs(messages []store.Message) []MalformedMessageID {
	var out []MalformedMessageID
	for _, m := range messages {
		if !msgid.Valid(m.MessageID) {
			out = append(out, MalformedMessageID{RowID: m.ID, MessageID: m.MessageID})
		}
	}
	return out
}

func findDuplicateIDs(messages []store.Message) []DuplicateMessageID {
	byID := make(map[string][]string)
	var order []string
	for _, m := range messages {
		if len(byID[m.MessageID]) == 0 {
			order = append(order, m.MessageID)
		}
		byID[m.MessageID] = append(byID[m.MessageID], m.ID)
	}

	var out []DuplicateMessageID
	for _, id := range order {
		if rows := byID[id]; len(rows) > 1 {
			out = append(out, DuplicateMessageID{MessageID: id, RowIDs: rows})
		}
	}
	return out
}
