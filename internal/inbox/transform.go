// ABOUTME: Pure mapping from backend rows to display-ready inbox types
// ABOUTME: Derives the counterpart, maps nullable nested data, restores chronological order

package inbox

// ToConversation maps a conversation row for the given current user. The
// counterpart is whichever stored participant is not the current user.
func ToConversation(row ConversationRow, currentUserID string) Conversation {
	otherID := row.Participant1ID
	other := row.Participant1
	if row.Participant1ID == currentUserID {
		otherID = row.Participant2ID
		other = row.Participant2
	}

	productID := ""
	if row.ProductID != nil {
		productID = *row.ProductID
	}

	conv := Conversation{
		ID:                    Compose(otherID, productID),
		OtherUserID:           otherID,
		Name:                  "Unknown user",
		LastMessageAt:         row.CreatedAt,
		Unread:                row.UnreadCount > 0,
		Messages:              []Message{},
		OrderID:               row.OrderID,
		IsProductConversation: row.ProductID != nil,
		IsOrderConversation:   row.OrderID != nil,
		IsOfferConversation:   row.IsOffer,
	}
	if row.LastMessageAt != nil {
		conv.LastMessageAt = *row.LastMessageAt
	}
	if row.LastMessage != nil {
		conv.LastMessage = *row.LastMessage
	}
	if other != nil {
		if other.Username != "" {
			conv.Name = other.Username
		}
		conv.Avatar = nonEmpty(other.AvatarURL)
	}
	if row.Product != nil {
		conv.Product = toProduct(row.Product)
	}
	return conv
}

// ToConversations maps rows in order.
func ToConversations(rows []ConversationRow, currentUserID string) []Conversation {
	out := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, ToConversation(row, currentUserID))
	}
	return out
}

// ToMessage maps a message row.
func ToMessage(row MessageRow) Message {
	msg := Message{
		ID:         row.ID,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		Content:    row.Content,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		IsRead:     row.IsRead,
		Status:     StatusSent,
		Kind:       KindUser,
	}
	if row.Sender != nil {
		msg.Sender = &Participant{
			ID:     row.Sender.ID,
			Name:   row.Sender.Username,
			Avatar: nonEmpty(row.Sender.AvatarURL),
		}
	}
	return msg
}

// ChronologicalMessages maps a newest-first page into oldest-first order.
func ChronologicalMessages(rows []MessageRow) []Message {
	out := make([]Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = ToMessage(row)
	}
	return out
}

func toProduct(row *ProductRow) *ProductSummary {
	p := &ProductSummary{
		ID:    row.ID,
		Title: row.Title,
		Price: row.Price,
	}
	if len(row.Images) > 0 && row.Images[0] != "" {
		img := row.Images[0]
		p.Image = &img
	}
	return p
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
