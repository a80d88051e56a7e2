package main

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/ovh/configstore"
	"github.com/rclsilver/blebridge"
	"github.com/sirupsen/logrus"
)

func main() {
	debug, _ := strconv.ParseBool(os.Getenv("DEBUG"))
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	configstore.InitFromEnvironment()

	cfg, err := loadConfig(configstore.DefaultStore)
	if err != nil {
		logrus.WithError(err).Fatal("error while loading configuration")
	}
	logrus.Debug("configuration loaded")

	mqtt, err := blebridge.InitMQTT(blebridge.MQTTOptions{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		WillTopic: cfg.Topics.Prefix + "/availability",
	})
	if err != nil {
		logrus.WithError(err).Fatal("error while initializing MQTT")
	}
	logrus.Debug("MQTT initialized")

	if err := mqtt.Connect(); err != nil {
		logrus.WithError(err).Fatal("error while connecting to the MQTT broker")
	}
	defer mqtt.Disconnect()

	var radio atomic.Pointer[blebridge.Bluetooth]
	bonds := blebridge.NewBlueZ()
	rpc := blebridge.NewRPC(mqtt, cfg.Topics.Prefix, logrus.StandardLogger())

	bridge := blebridge.New(blebridge.Options{
		// The radio is opened on first use so the bridge starts with the
		// adapter missing or powered off.
		Radio: func() (blebridge.Radio, error) {
			bt, err := blebridge.InitBluetooth(blebridge.BluetoothOptions{
				Active:          cfg.Scan.Active,
				AllowDuplicates: cfg.Scan.AllowDuplicates,
			})
			if err != nil {
				logrus.WithError(err).Warn("error while initializing bluetooth")
				return nil, err
			}
			logrus.Debug("bluetooth initialized")
			radio.Store(bt)
			return bt, nil
		},
		Bonds:                bonds,
		OnStateChange:        rpc.PublishState,
		ScanPeriod:           cfg.scanPeriod,
		ConnectTimeout:       cfg.connectTimeout,
		DisconnectTimeout:    cfg.disconnectTimeout,
		PartialResultsOnStop: cfg.Scan.PartialOnStop,
	})
	rpc.Bind(bridge)

	if err := mqtt.Subscribe(rpc.RequestTopic(), rpc.Handle); err != nil {
		logrus.WithError(err).Fatal("error while subscribing to requests")
	}
	if err := mqtt.PublishRaw(rpc.AvailabilityTopic(), "online", true); err != nil {
		logrus.WithError(err).Error("error while publishing availability")
	}
	rpc.PublishState(blebridge.Disconnected, "")

	logrus.WithField("topic", rpc.RequestTopic()).Info("waiting for requests")

	ctx := ble.WithSigHandler(context.WithCancel(context.Background()))
	<-ctx.Done()

	logrus.Info("shutting down")
	bridge.Close()
	if err := mqtt.PublishRaw(rpc.AvailabilityTopic(), "offline", true); err != nil {
		logrus.WithError(err).Error("error while publishing availability")
	}
	if err := bonds.Close(); err != nil {
		logrus.WithError(err).Debug("error while closing system bus")
	}
	if bt := radio.Load(); bt != nil {
		if err := bt.Close(); err != nil {
			logrus.WithError(err).Debug("error while closing bluetooth")
		}
	}
}
