package blebridge

import (
	"context"
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
)

type fakeAdvertisement struct {
	ble.Advertisement

	addr        string
	name        string
	rssi        int
	mfg         []byte
	services    []ble.UUID
	serviceData []ble.ServiceData
}

func (a fakeAdvertisement) Addr() ble.Addr { return ble.NewAddr(a.addr) }
func (a fakeAdvertisement) LocalName() string { return a.name }
func (a fakeAdvertisement) RSSI() int { return a.rssi }
func (a fakeAdvertisement) ManufacturerData() []byte { return a.mfg }
func (a fakeAdvertisement) Services() []ble.UUID { return a.services }
func (a fakeAdvertisement) ServiceData() []ble.ServiceData { return a.serviceData }
func (a fakeAdvertisement) TxPowerLevel() int { return 4 }
func (a fakeAdvertisement) Connectable() bool { return true }

func TestRecordFromAdvertisement(t *testing.T) {
	battery := ble.UUID16(0x180f)
	envSensing := ble.UUID16(0x181a)

	rec := recordFromAdvertisement(fakeAdvertisement{
		addr:        "a4:c1:38:00:11:22",
		name:        "LYWSD03MMC",
		rssi:        -71,
		mfg:         []byte{0x8f, 0x03, 0x01},
		services:    []ble.UUID{battery},
		serviceData: []ble.ServiceData{{UUID: envSensing, Data: []byte{0x01, 0x02}}},
	})

	assert.Equal(t, "A4:C1:38:00:11:22", rec.Address)
	assert.Equal(t, "LYWSD03MMC", rec.Name)
	assert.Equal(t, -71, rec.RSSI)
	assert.Nil(t, rec.DeviceClass)
	assert.False(t, rec.SeenAt.IsZero())
	assert.Equal(t, Advertisement{
		ManufacturerData: []byte{0x8f, 0x03, 0x01},
		ServiceData:      map[string][]byte{envSensing.String(): {0x01, 0x02}},
		Services:         []string{battery.String()},
		TxPowerLevel:     4,
		Connectable:      true,
	}, rec.Payload)
}

type noopCallback struct{}

func (noopCallback) OnConnectionStateChange(string, HardwareState, error) {}

func TestBluetoothConnectRejectsInvalidAddress(t *testing.T) {
	bt := &Bluetooth{}

	err := bt.Connect(context.Background(), "not-an-address", noopCallback{})

	assert.Error(t, err)
	assert.Equal(t, ErrUnderlyingFailure, Classify(err))
}
