// Package plugins hosts the rule packs. Each subpackage contributes rules
// and command factories through pkg/pluginapi:
//
//   - sheet: the character record shared by the packs
//   - combat: attacks
//   - magic: spellcasting and turning undead
//   - advancement: levelling up
//
// The architecture tests in this directory keep the packs off internal/.
package plugins
