// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"fmt"
	"strconv"
)

// MaxDeviceNumber is the largest device number a class can carry (18 bits).
const MaxDeviceNumber = 0x3FFFF

const nullToken = "--:------"

// Address identifies a device as a class tag and an 18-bit number.
type Address struct {
	Class  DeviceClass
	Number uint32
}

// Sentinel addresses
var (
	NullAddress      = Address{Class: ClassNull}
	BroadcastAddress = Address{Class: ClassBroadcast, Number: 262142}
	GatewayAddress   = Address{Class: ClassGateway, Number: 730} // placeholder the HGI rewrites
)

// NewAddress validates and returns an address.
func NewAddress(class DeviceClass, number uint32) (Address, error) {
	if class == ClassNull {
		return NullAddress, nil
	}
	if !class.Known() {
		return Address{}, &InvalidAddrSetError{
			Token:  fmt.Sprintf("%02d:%06d", class, number),
			Reason: "unknown device class",
		}
	}
	if number > MaxDeviceNumber {
		return Address{}, &InvalidAddrSetError{
			Token:  fmt.Sprintf("%02d:%06d", class, number),
			Reason: "device number out of range",
		}
	}
	return Address{Class: class, Number: number}, nil
}

// DecodeAddress parses a "CC:NNNNNN" token. "--:------" decodes to NullAddress.
func DecodeAddress(token string) (Address, error) {
	if len(token) != AddressLength {
		return Address{}, &InvalidAddrSetError{Token: token, Reason: "wrong length"}
	}
	if token == nullToken {
		return NullAddress, nil
	}
	if token[2] != ':' {
		return Address{}, &InvalidAddrSetError{Token: token, Reason: "missing separator"}
	}
	for i := 0; i < len(token); i++ {
		if i != 2 && (token[i] < '0' || token[i] > '9') {
			return Address{}, &InvalidAddrSetError{Token: token, Reason: "non-digit character"}
		}
	}

	class := DeviceClass((token[0]-'0')*10 + (token[1] - '0'))
	if !class.Known() {
		return Address{}, &InvalidAddrSetError{Token: token, Reason: "unknown device class"}
	}

	number, _ := strconv.ParseUint(token[3:], 10, 32)
	if number > MaxDeviceNumber {
		return Address{}, &InvalidAddrSetError{Token: token, Reason: "device number out of range"}
	}

	return Address{Class: class, Number: uint32(number)}, nil
}

// MustDecodeAddress is like DecodeAddress but panics on error.
func MustDecodeAddress(token string) Address {
	a, err := DecodeAddress(token)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromID unpacks the 24-bit form used inside payloads.
func AddressFromID(id uint32) (Address, error) {
	if id == 0xFFFFFF {
		return NullAddress, nil
	}
	if id > 0xFFFFFF {
		return Address{}, &InvalidAddrSetError{Token: fmt.Sprintf("%X", id), Reason: "device id exceeds 24 bits"}
	}
	return NewAddress(DeviceClass(id>>18), id&MaxDeviceNumber)
}

// String encodes the address as it appears on the wire.
func (a Address) String() string {
	if a.IsNull() {
		return nullToken
	}
	return fmt.Sprintf("%02d:%06d", a.Class, a.Number)
}

// ID packs the address into 24 bits: class<<18 | number.
func (a Address) ID() uint32 {
	if a.IsNull() {
		return 0xFFFFFF
	}
	return uint32(a.Class)<<18 | a.Number
}

// Hex returns the packed ID as six uppercase hex digits.
func (a Address) Hex() string {
	return fmt.Sprintf("%06X", a.ID())
}

// IsNull reports whether a is the empty slot "--:------".
func (a Address) IsNull() bool {
	return a.Class == ClassNull
}

// IsBroadcast reports whether a uses the broadcast class.
func (a Address) IsBroadcast() bool {
	return a.Class == ClassBroadcast
}

// IsConcrete reports whether a names a real device.
func (a Address) IsConcrete() bool {
	return !a.IsNull() && !a.IsBroadcast()
}

// Role returns the role of the address' device class.
func (a Address) Role() Role {
	return a.Class.Role()
}

// Label renders the address with its device type, e.g. "CTL:123456".
func (a Address) Label() string {
	if a.IsNull() {
		return nullToken
	}
	return fmt.Sprintf("%s:%06d", a.Class.Slug(), a.Number)
}
