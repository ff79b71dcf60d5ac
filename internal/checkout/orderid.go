package checkout

import "github.com/oklog/ulid/v2"

// OrderIDPrefix — префикс идентификатора заказа.
const OrderIDPrefix = "ORD-"

// GenerateOrderID возвращает "ORD-" + ULID: метка времени в миллисекундах и 80 случайных бит.
// Идентификаторы одного процесса монотонно возрастают при лексикографическом сравнении.
func GenerateOrderID() string {
	return OrderIDPrefix + ulid.Make().String()
}
