// access.go - Per-invoice role authorization.

package ledger

import "fmt"

// AccessController decides which caller may view or act on an invoice.
// Roles are fixed at creation: the sender marks late, the recipient pays,
// and only the two of them may view confidential fields.
type AccessController struct{}

// AuthorizeView fails unless the caller is the invoice's sender or recipient.
func (AccessController) AuthorizeView(inv *Invoice, caller Identity) error {
	if caller != inv.Sender && caller != inv.Recipient {
		return fmt.Errorf("view %s: %w", inv.ID.Hex(), ErrUnauthorized)
	}
	return nil
}

// AuthorizePay fails unless the caller is the recorded recipient.
func (AccessController) AuthorizePay(inv *Invoice, caller Identity) error {
	if caller != inv.Recipient {
		return fmt.Errorf("pay %s: %w", inv.ID.Hex(), ErrUnauthorized)
	}
	return nil
}

// AuthorizeMarkLate fails unless the caller is the recorded sender.
func (AccessController) AuthorizeMarkLate(inv *Invoice, caller Identity) error {
	if caller != inv.Sender {
		return fmt.Errorf("mark late %s: %w", inv.ID.Hex(), ErrUnauthorized)
	}
	return nil
}
