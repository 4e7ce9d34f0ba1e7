package databus

import (
	"strings"

	"gopkg.in/Shopify/sarama.v1"

	"moff.io/moff-estate/pkg/errors"
	"moff.io/moff-estate/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
}

// syncProducer is the part of sarama.SyncProducer the bus uses.
type syncProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type DataBus struct {
	producer syncProducer
}

var producer *DataBus

func InitDataBus(host string) error {
	hosts := strings.Split(host, ",")
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForLocal
	p, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return errors.Wrapf(err, "create kafka producer for %v", host)
	}
	producer = &DataBus{producer: p}
	log.Info("Kafka producer initialized...")
	return nil
}

// GetDataBus returns nil when InitDataBus was never called.
func GetDataBus() *DataBus {
	return producer
}

func (db *DataBus) PublishRaw(topic, key string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := db.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("produce message success-partition: %d, offset: %d", partition, offset)
	return nil
}

func (db *DataBus) Publish(e Event) error {
	var key string
	if k, ok := e.(interface{ Key() string }); ok {
		key = k.Key()
	}
	return db.PublishRaw(e.Topic(), key, e.Serialize())
}

func (db *DataBus) Close() error {
	if db == nil || db.producer == nil {
		return nil
	}
	return db.producer.Close()
}
