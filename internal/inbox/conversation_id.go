// ABOUTME: Composite conversation id encoding (counterpart__product|general)
// ABOUTME: Compose and ParseConversationID are inverses for parts accepted by ValidateParts

package inbox

import (
	"errors"
	"fmt"
	"strings"
)

const (
	idSeparator    = "__"
	generalProduct = "general"
)

// ErrInvalidConversationID is returned for ids that do not decompose into a
// counterpart and an optional product.
var ErrInvalidConversationID = errors.New("invalid conversation id")

// ConversationKey is a decomposed conversation id.
type ConversationKey struct {
	OtherUserID string
	ProductID   *string
}

// HasProduct reports whether the conversation is scoped to a product.
func (k ConversationKey) HasProduct() bool {
	return k.ProductID != nil
}

// String re-encodes the key.
func (k ConversationKey) String() string {
	if k.ProductID == nil {
		return Compose(k.OtherUserID, "")
	}
	return Compose(k.OtherUserID, *k.ProductID)
}

// ValidateParts reports whether the parts compose into an id that parses back
// to the same parts: neither may contain the separator, the counterpart must
// be set, and a product cannot be named "general".
func ValidateParts(otherUserID, productID string) error {
	switch {
	case otherUserID == "":
		return fmt.Errorf("%w: empty counterpart", ErrInvalidConversationID)
	case strings.Contains(otherUserID, idSeparator):
		return fmt.Errorf("%w: user id %q contains %q", ErrInvalidConversationID, otherUserID, idSeparator)
	case strings.Contains(productID, idSeparator):
		return fmt.Errorf("%w: product id %q contains %q", ErrInvalidConversationID, productID, idSeparator)
	case productID == generalProduct:
		return fmt.Errorf("%w: product id %q is reserved", ErrInvalidConversationID, productID)
	}
	return nil
}

// Compose builds the synthetic conversation id. An empty productID yields a
// general conversation. Parts rejected by ValidateParts do not round-trip.
func Compose(otherUserID, productID string) string {
	if productID == "" {
		productID = generalProduct
	}
	return otherUserID + idSeparator + productID
}

// ParseConversationID decomposes id into counterpart and optional product.
func ParseConversationID(id string) (ConversationKey, error) {
	other, product, ok := strings.Cut(id, idSeparator)
	if !ok {
		return ConversationKey{}, fmt.Errorf("%w: %q has no %q separator", ErrInvalidConversationID, id, idSeparator)
	}
	if other == "" {
		return ConversationKey{}, fmt.Errorf("%w: %q has no counterpart", ErrInvalidConversationID, id)
	}

	if strings.Contains(product, idSeparator) {
		return ConversationKey{}, fmt.Errorf("%w: %q is ambiguous", ErrInvalidConversationID, id)
	}

	key := ConversationKey{OtherUserID: other}
	if product != "" && product != generalProduct {
		key.ProductID = &product
	}
	return key, nil
}
