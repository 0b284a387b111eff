package rabbitmq

// QueueConfig описывает очередь и ключ маршрутизации, по которому она
// привязана к обменнику импорта.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetImportQueues возвращает очереди шины импорта. Чанки обоих
// источников идут в одну очередь: источник указан в самом сообщении.
func GetImportQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "imports.chunks", RoutingKey: "chunks"},
	}
}
