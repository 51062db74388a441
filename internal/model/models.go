package model

// All lists every model in migration order
func All() []interface{} {
	return []interface{}{
		&Tenant{},
		&User{},
		&Membership{},
		&UserApproval{},
		&Client{},
		&ReferenceSequence{},
		&KycDocument{},
		&Category{},
		&Question{},
		&Option{},
		&Assessment{},
		&AssessmentAnswer{},
	}
}
