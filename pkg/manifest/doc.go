// Package manifest parses XML package manifests.
//
// A manifest looks like:
//
//	<Package type="Patch">
//	  <Id>Forms</Id>
//	  <Version>1.2</Version>
//	  <ReleaseDate>2024-03-01</ReleaseDate>
//	  <Description>Adds the captcha field</Description>
//	  <Dependencies>
//	    <Dependency id="Forms" minVersion="1.0" maxVersionExclusive="1.2"/>
//	    <Dependency id="Core" minVersion="7.1"/>
//	  </Dependencies>
//	  <Parameters>
//	    <Parameter name="@site">default</Parameter>
//	    <Parameter name="@mode"/>
//	  </Parameters>
//	  <Steps>
//	    <Phase>
//	      <Trace>@site</Trace>
//	    </Phase>
//	    <Phase>
//	      <Trace>Restarted</Trace>
//	    </Phase>
//	  </Steps>
//	</Package>
//
// ParseHead reads the header only. Parse also prepares the steps of every
// phase, validates the selected phase index and runs the admission checks
// for phase 0. The parsed document serializes back to the same text with
// ToXML.
package manifest
