package parser

import "strconv"

func parseIntLiteral(lexeme string) int64 {
	v, _ := strconv.ParseInt(lexeme, 10, 64)
	return v
}

func parseFloatLiteral(lexeme string) float64 {
	v, _ := strconv.ParseFloat(lexeme, 64)
	return v
}
