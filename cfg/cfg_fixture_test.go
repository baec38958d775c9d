// SPDX-License-Identifier: ice License 1.0

package cfg

func init() {
	MustInit(DiscoverFiles()...)
}
