// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-size buffer pooling for connection read and write buffers.
package pool
