package usbdfu

import (
	"github.com/ardnew/softrescue/device"
	"github.com/ardnew/softrescue/device/class/dfu"
	"github.com/ardnew/softrescue/rescue"
)

// Default USB identity of the rescue device.
const (
	DefaultVendorID  = 0x18D1
	DefaultProductID = 0x503A
)

// Descriptor layout.
const (
	// InterfaceNumber is the interface carrying the DFU altsettings.
	InterfaceNumber = 1

	// ConfigurationValue is the value of the only configuration.
	ConfigurationValue = 1

	// DetachTimeout is the wDetachTimeOut of the functional descriptor.
	DetachTimeout = 32768

	// DFUVersion is bcdDFUVersion 1.1.
	DFUVersion = 0x0101

	deviceVersion = 0x0100
	usbVersion    = 0x0200
)

// String descriptor indices.
const (
	StringLanguage = iota
	StringManufacturer
	StringProduct
	StringSerialNumber
	StringFirstAltSetting
)

var altSettingNames = [len(rescue.AltSettings)]string{
	"Rescue",
	"Rescue SlotB",
	"DeviceID",
	"BootLog",
	"BootServices",
	"Ownership",
}

// Descriptors builds the rescue device descriptors. The serial number
// is rendered from words 1 and 2 of the device identifier.
func Descriptors(vendorID, productID uint16, deviceID [8]uint32) device.Descriptors {
	dev := make([]byte, device.DeviceDescriptorSize)
	(&device.DeviceDescriptor{
		USBVersion:        usbVersion,
		MaxPacketSize0:    device.MaxPacketSize0,
		VendorID:          vendorID,
		ProductID:         productID,
		DeviceVersion:     deviceVersion,
		ManufacturerIndex: StringManufacturer,
		ProductIndex:      StringProduct,
		SerialNumberIndex: StringSerialNumber,
		NumConfigurations: 1,
	}).MarshalTo(dev)

	numAlts := len(rescue.AltSettings)
	total := device.ConfigurationDescriptorSize +
		numAlts*device.InterfaceDescriptorSize +
		device.DFUFunctionalDescriptorSize
	cfg := make([]byte, total)
	n := (&device.ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      1,
		ConfigurationValue: ConfigurationValue,
		Attributes:         device.ConfigAttrBusPowered | device.ConfigAttrSelfPowered,
		MaxPower:           50,
	}).MarshalTo(cfg)
	for alt := 0; alt < numAlts; alt++ {
		n += (&device.InterfaceDescriptor{
			InterfaceNumber:   InterfaceNumber,
			AlternateSetting:  uint8(alt),
			InterfaceClass:    device.ClassAppSpecific,
			InterfaceSubClass: device.SubClassDFU,
			InterfaceProtocol: device.ProtocolDFUMode,
			InterfaceIndex:    uint8(StringFirstAltSetting + alt),
		}).MarshalTo(cfg[n:])
	}
	(&device.DFUFunctionalDescriptor{
		Attributes:    device.DFUAttrCanDnload | device.DFUAttrCanUpload | device.DFUAttrManifestationTolerant,
		DetachTimeout: DetachTimeout,
		TransferSize:  dfu.TransferSize,
		DFUVersion:    DFUVersion,
	}).MarshalTo(cfg[n:])

	strs := make([][]byte, 0, StringFirstAltSetting+numAlts)
	strs = append(strs,
		language(),
		str("Google"),
		str("OpenTitan"),
		serial(deviceID),
	)
	for _, name := range altSettingNames {
		strs = append(strs, str(name))
	}

	return device.Descriptors{
		Device:        dev,
		Configuration: cfg,
		Strings:       strs,
	}
}

func language() []byte {
	buf := make([]byte, 4)
	return buf[:device.LanguageDescriptorTo(buf, device.LangIDUSEnglish)]
}

func str(s string) []byte {
	buf := make([]byte, 2+2*len(s))
	return buf[:device.StringDescriptorTo(buf, s)]
}

func serial(id [8]uint32) []byte {
	buf := make([]byte, 2+2*16)
	return buf[:device.SerialNumberDescriptorTo(buf, id[1], id[2])]
}
