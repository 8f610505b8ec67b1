// common/service.go
package common

import (
	"github.com/YaganovValera/feedbridge/common/backoff"
	producer "github.com/YaganovValera/feedbridge/common/kafka/producer"
)

// InitServiceName задаёт единое имя сервиса для backoff и Kafka-producer.
// Нужно вызывать в main() до первой отправки метрик.
func InitServiceName(name string) {
	backoff.SetServiceLabel(name)
	producer.SetServiceLabel(name)
}
