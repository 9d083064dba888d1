package normalize

var (
	ParsePrice     = parsePrice
	ParseQuantity  = parseQuantity
	ParseTimestamp = parseTimestamp
)
