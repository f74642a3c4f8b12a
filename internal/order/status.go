package order

// allowedTransitions is the order lifecycle. processing -> delivered stays
// allowed so an admin can confirm delivery of a paid order without a separate
// shipping step.
var allowedTransitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}
