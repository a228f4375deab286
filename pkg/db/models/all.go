package models

// All lists every persisted model; used by test schemas.
func All() []any {
	return []any{
		&User{},
		&Address{},
		&DeliveryProfile{},
		&Shop{},
		&Product{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&OrderEvent{},
		&Task{},
		&TaskHistory{},
		&DeliveryOpportunity{},
		&DeliveryResponse{},
		&UserItem{},
		&UserItemOffer{},
		&ChatConversation{},
		&ChatMessage{},
		&P2POrder{},
		&PaymentMethod{},
		&Payment{},
		&PaymentFee{},
		&Transaction{},
		&FeeConfiguration{},
		&OutboxEvent{},
	}
}
