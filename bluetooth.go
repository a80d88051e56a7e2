package blebridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// BluetoothOptions configure the HCI radio.
type BluetoothOptions struct {
	// Active requests scan responses, which usually carry the device name.
	Active bool
	// AllowDuplicates reports every advertisement instead of the first per device.
	AllowDuplicates bool
}

// Bluetooth is the Radio backed by the local HCI device.
type Bluetooth struct {
	device   *linux.Device
	allowDup bool

	// scanMu keeps a cancelled scan from disabling the next one while it tears down.
	scanMu sync.Mutex
}

func InitBluetooth(opts BluetoothOptions) (*Bluetooth, error) {
	// Grab the Bluetooth LE device
	d, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}

	var scanType uint8 = 0x00 // 0x00: passive
	if opts.Active {
		scanType = 0x01 // 0x01: active
	}

	if err := d.HCI.Send(&cmd.LESetScanParameters{
		LEScanType:           scanType,
		LEScanInterval:       0x4000, // 0x0004 - 0x4000; N * 0.625msec
		LEScanWindow:         0x4000, // 0x0004 - 0x4000; N * 0.625msec
		OwnAddressType:       0x00,   // 0x00: public
		ScanningFilterPolicy: 0x00,   // 0x00: accept all
	}, nil); err != nil {
		_ = d.Stop()
		return nil, err
	}

	return &Bluetooth{
		device:   d,
		allowDup: opts.AllowDuplicates,
	}, nil
}

func (bt *Bluetooth) Scan(ctx context.Context, h func(ScanRecord)) error {
	bt.scanMu.Lock()
	defer bt.scanMu.Unlock()

	err := bt.device.Scan(ctx, bt.allowDup, func(a ble.Advertisement) {
		h(recordFromAdvertisement(a))
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (bt *Bluetooth) Connect(ctx context.Context, address string, cb ConnectionCallback) error {
	if _, err := net.ParseMAC(address); err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}

	go func() {
		client, err := bt.device.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			cb.OnConnectionStateChange(address, HardwareDisconnected, err)
			return
		}
		cb.OnConnectionStateChange(address, HardwareConnected, nil)

		select {
		case <-client.Disconnected():
		case <-ctx.Done():
			_ = client.CancelConnection()
		}
		cb.OnConnectionStateChange(address, HardwareDisconnected, nil)
	}()
	return nil
}

func (bt *Bluetooth) Close() error {
	return bt.device.Stop()
}

func recordFromAdvertisement(a ble.Advertisement) ScanRecord {
	payload := Advertisement{
		ManufacturerData: a.ManufacturerData(),
		TxPowerLevel:     a.TxPowerLevel(),
		Connectable:      a.Connectable(),
	}
	for _, u := range a.Services() {
		payload.Services = append(payload.Services, u.String())
	}
	if sd := a.ServiceData(); len(sd) > 0 {
		payload.ServiceData = make(map[string][]byte, len(sd))
		for _, data := range sd {
			payload.ServiceData[data.UUID.String()] = data.Data
		}
	}

	return ScanRecord{
		Address: NormalizeAddress(a.Addr().String()),
		Name:    a.LocalName(),
		RSSI:    a.RSSI(),
		Payload: payload,
		SeenAt:  time.Now(),
	}
}
