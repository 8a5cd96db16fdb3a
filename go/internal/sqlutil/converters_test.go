package sqlutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestNullableConverters(t *testing.T) {
	t.Parallel()

	check.False(t, ToNullUUID(nil).Valid)
	check.Nil(t, FromNullUUID(ToNullUUID(nil)))
	id := uuid.New()
	check.Equal(t, id, *FromNullUUID(ToNullUUID(&id)))

	check.Nil(t, FromNullDecimal(ToNullDecimal(nil)))
	price := decimal.RequireFromString("1500000")
	check.True(t, price.Equal(*FromNullDecimal(ToNullDecimal(&price))))

	check.Nil(t, FromNullTime(ToNullTime(nil)))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	check.True(t, now.Equal(*FromNullTime(ToNullTime(&now))))

	check.False(t, ToNullRawMessage(nil).Valid)
	raw := json.RawMessage(`{"batting_hand":"left"}`)
	check.Equal(t, string(raw), string(FromNullRawMessage(ToNullRawMessage(raw))))
}
