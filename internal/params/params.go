package params

// RSA key constants
const (
	DEFAULT_KEY_BITS = 1024 // Key size used when none is configured
	MAX_EXP_ATTEMPTS = 1000 // Public exponent resampling bound
)

// SupportedKeyBits lists the RSA modulus sizes a keypair may be generated with.
var SupportedKeyBits = []int{512, 1024, 2048, 4096}

// Block cipher constants
const (
	ECB_PADDING_LEN = 3      // Leading bytes reserved per ECB block (>= 2, last two hold the pad size)
	CTR_NONCE       = 123456 // Default counter mode nonce
	MODE_ECB        = "ecb"
	MODE_CTR        = "ctr"
)

// PNG container constants
const (
	PNG_SIGNATURE    = "\x89PNG\r\n\x1a\n"
	CHUNK_LEN_SIZE   = 4
	CHUNK_TAG_SIZE   = 4
	CHUNK_CRC_SIZE   = 4
	CHUNK_OVERHEAD   = CHUNK_LEN_SIZE + CHUNK_TAG_SIZE + CHUNK_CRC_SIZE
	TAG_IMAGE_HEADER = "IHDR"
	TAG_IMAGE_DATA   = "IDAT"
	TAG_IMAGE_END    = "IEND"
)

// Key store constants
const (
	SALT_SIZE    = 32     // Salt for PBKDF2
	NONCE_SIZE   = 12     // GCM nonce size
	KEY_SIZE     = 32     // AES-256 key size
	PBKDF2_ITERS = 100000 // PBKDF2 iterations (adjustable for security/speed)
	MIN_PASSWORD = 8      // Shortest accepted key file password
)

// Key server constants
const (
	TXT_CHUNK_SIZE = 250 // Max characters per TXT string (DNS limit is 255)
	TXT_VERSION    = "v=pngrsa1"
	TXT_TTL        = 300
)
