package handshake

// watermark is the opaque blob posted as the Hello body. The server
// only checks the prefix, so we carry a compact JPEG-shaped stand-in
// rather than the full historical image.
var watermark = []byte{
	0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46,
	0x49, 0x46, 0x00, 0x01, 0x01, 0x01, 0x00, 0x48,
	0x00, 0x48, 0x00, 0x00, 0xFF, 0xFE, 0x00, 0x26,
	0x53, 0x6F, 0x66, 0x74, 0x45, 0x74, 0x68, 0x65,
	0x72, 0x20, 0x56, 0x50, 0x4E, 0x20, 0x50, 0x72,
	0x6F, 0x74, 0x6F, 0x63, 0x6F, 0x6C, 0x20, 0x57,
	0x61, 0x74, 0x65, 0x72, 0x6D, 0x61, 0x72, 0x6B,
	0x20, 0x42, 0x6C, 0x6F, 0x62, 0x00, 0xFF, 0xDB,
	0x00, 0x43, 0x00, 0x08, 0x06, 0x06, 0x07, 0x06,
	0x05, 0x08, 0x07, 0x07, 0x07, 0x09, 0x09, 0x08,
	0x0A, 0x0C, 0x14, 0x0D, 0x0C, 0x0B, 0x0B, 0x0C,
	0x19, 0x12, 0x13, 0x0F, 0x14, 0x1D, 0x1A, 0x1F,
	0x1E, 0x1D, 0x1A, 0x1C, 0x1C, 0x20, 0x24, 0x2E,
	0x27, 0x20, 0x22, 0x2C, 0x23, 0x1C, 0x1C, 0x28,
	0x37, 0x29, 0x2C, 0x30, 0x31, 0x34, 0x34, 0x34,
	0x1F, 0x27, 0x39, 0x3D, 0x38, 0x32, 0x3C, 0x2E,
	0x33, 0x34, 0x32, 0xFF, 0xD9,
}
