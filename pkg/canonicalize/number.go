package canonicalize

import (
	"encoding/json"
	"strconv"
)

func jsonNumberFromInt64(v int64) json.Number {
	return json.Number(strconv.FormatInt(v, 10))
}

func jsonNumberFromFloat(v float64) json.Number {
	return json.Number(strconv.FormatFloat(v, 'g', -1, 64))
}
